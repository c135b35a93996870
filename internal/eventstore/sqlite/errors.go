package sqlite

import "github.com/cml-project/cml/internal/cmlerr"

// wrapDBError is a thin local alias over cmlerr.Wrap so call sites in this
// package read the same way the teacher's internal/storage/sqlite does.
func wrapDBError(op string, err error) error {
	return cmlerr.Wrap(op, err)
}

func wrapDBErrorf(err error, format string, args ...interface{}) error {
	return cmlerr.Wrapf(err, format, args...)
}
