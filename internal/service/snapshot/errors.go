package snapshot

import "errors"

var (
	ErrSnapshotTimeout = errors.New("snapshot query timed out")
	ErrUnknownStrategy = errors.New("unknown snapshot strategy")
	ErrUnknownSchema   = errors.New("unknown snapshot schema")
)
