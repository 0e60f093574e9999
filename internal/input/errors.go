package input

import "errors"

// errBitstreamEnded is returned by GetData when the underlying source has
// no more data at all (EOF on stdin, end of playlist), matching the
// original's "nothing more we can do from here" fatal case.
var errBitstreamEnded = errors.New("input: no more data from source")
