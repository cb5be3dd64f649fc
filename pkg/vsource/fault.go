package vsource

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInjectedFault is returned by creators wrapped with FaultAfter.
var ErrInjectedFault = errors.New("injected read failure")

// Creator produces the content of an input.
type Creator interface {
	Create(in *Input, offset uint64, length int) ([]byte, error)
}

// CreatorFunc is a function that implements Creator.
type CreatorFunc func(in *Input, offset uint64, length int) ([]byte, error)

// Create implements Creator.
func (f CreatorFunc) Create(in *Input, offset uint64, length int) ([]byte, error) {
	return f(in, offset, length)
}

// BaseCreator copies the literal payload of an input, or generates the counter
// pattern when the input has no payload. Bytes after the end of the payload are zero.
var BaseCreator Creator = CreatorFunc(func(in *Input, offset uint64, length int) ([]byte, error) {
	buf := make([]byte, length)

	if in.Payload != nil {
		if offset < uint64(len(in.Payload)) {
			copy(buf, in.Payload[offset:])
		}
		return buf, nil
	}

	FillPattern(buf, offset)
	return buf, nil
})

// IsManifest checks whether uri points to a manifest.
func IsManifest(uri string) bool {
	if u, err := url.Parse(uri); err == nil {
		uri = u.Path
	}
	return strings.HasSuffix(uri, ".m3u8") || strings.HasSuffix(uri, ".mpd")
}

// FaultConfig configures the injection of read failures.
type FaultConfig struct {
	// reads starting at or after this offset fail.
	Threshold uint64
	// URIs affected by the fault. When empty, every URI that is not a manifest is affected.
	URIs []string
}

func (c FaultConfig) applies(uri string) bool {
	if len(c.URIs) == 0 {
		return !IsManifest(uri)
	}
	for _, u := range c.URIs {
		if u == uri {
			return true
		}
	}
	return false
}

// FaultAfter returns a Creator that fails every read of an affected URI
// starting at or after the configured threshold, and delegates the others to base.
func FaultAfter(c FaultConfig, base Creator) Creator {
	return CreatorFunc(func(in *Input, offset uint64, length int) ([]byte, error) {
		if c.applies(in.URI) && offset >= c.Threshold {
			return nil, ErrInjectedFault
		}
		return base.Create(in, offset, length)
	})
}
