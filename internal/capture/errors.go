package capture

import "errors"

var errNoImages = errors.New("capture: static capturer has no images")
