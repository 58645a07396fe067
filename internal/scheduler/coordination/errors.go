package coordination

import "errors"

// ErrNotFound is returned by Get when the requested path does not exist and
// by Children when the path has no children. Spec §7 treats this as an expected control-flow outcome, not an
// error worth logging at error level.
var ErrNotFound = errors.New("coordination: path not found")
