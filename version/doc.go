// Package version reports the build identity of the imgflow binary.
//
// Release builds stamp it through -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/imgflow/version.Version=1.4.0 \
//	  -X github.com/kbukum/imgflow/version.Commit=$(git rev-parse --short HEAD)"
//
// Anything left unset is filled from the VCS settings the go tool embeds.
package version
