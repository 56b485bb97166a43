package img

import (
	"sync"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
)

// ExternalOpener lets an embedder plug a custom image source into the
// stack. The returned Image supplies read, size, sector size and close;
// the engine wraps it with the shared cache like any native backend.
type ExternalOpener func(paths []string) (interfaces.Image, error)

var (
	externalMu     sync.RWMutex
	externalOpener ExternalOpener
)

// RegisterExternal installs the opener used for TypeExternal images.
func RegisterExternal(opener ExternalOpener) {
	externalMu.Lock()
	defer externalMu.Unlock()
	externalOpener = opener
}

type externalImage struct {
	interfaces.Image
}

func (externalImage) imgType() Type { return TypeExternal }

func openExternal(paths []string) (backend, error) {
	externalMu.RLock()
	opener := externalOpener
	externalMu.RUnlock()

	if opener == nil {
		return nil, errs.New(errs.ImgUnsupType, "img.openExternal", "no external image opener registered")
	}
	im, err := opener(paths)
	if err != nil {
		return nil, errs.Wrap(errs.ImgOpen, "img.openExternal", err)
	}
	return externalImage{im}, nil
}
