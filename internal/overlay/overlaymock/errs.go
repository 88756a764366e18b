package overlaymock

import "errors"

var errNoResponse = errors.New("overlaymock: no response configured for this manifest")
