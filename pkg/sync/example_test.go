package sync_test

import (
	"context"
	"fmt"

	pkgsync "github.com/pelageech/lifo/pkg/sync"
)

func ExampleStack() {
	s := pkgsync.NewStack[string]()
	s.Push("a")
	s.Push("b")
	s.Emplace(func(v *string) { *v = "c" })

	for !s.Empty() {
		v, _ := s.TryPop()
		fmt.Println(v)
	}
	// Output:
	// c
	// b
	// a
}

func ExampleStack_WaitAndPopContext() {
	s := pkgsync.NewStack[int]()
	ctx, cancel := context.WithCancel(context.Background())

	s.Push(-1)
	s.Push(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// a sentinel value of -1 ends the consumer
		for {
			v, err := s.WaitAndPopContext(ctx)
			if err != nil || v < 0 {
				return
			}
			fmt.Println("got", v)
		}
	}()

	<-done
	cancel()
	// Output:
	// got 1
}
