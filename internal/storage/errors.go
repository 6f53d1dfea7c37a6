package storage

import "mongolite/dberr"

var (
	errBadKeySize = dberr.New(dberr.CodeInvalidArgument, "storage", "key size out of range (0, %d]", maxKeySize)
	errBadValSize = dberr.New(dberr.CodeInvalidArgument, "storage", "value size exceeds %d bytes", maxValSize)
)
