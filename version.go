package lifo

import (
	"runtime/debug"
	"sync"
)

// reported when the module version can't be read from the build,
// e.g. in its own tests or a replace'd checkout
const fallbackVersion = "v0.2.0"

var Version = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fallbackVersion
	}
	for _, dep := range info.Deps {
		if dep.Path == OTelScopeName && dep.Version != "" && dep.Version != "(devel)" {
			return dep.Version
		}
	}
	return fallbackVersion
})
