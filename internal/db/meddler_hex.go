package db

import (
	"database/sql"
	"fmt"
)

// hexEncodable is anything that round-trips through a hex string the way
// common.Hash and common.Address do.
type hexEncodable interface {
	Hex() string
}

// hexMeddler is a meddler.Meddler for any hexEncodable T, parameterized by
// the hex-decoding constructor (common.HexToHash, common.HexToAddress, ...).
// common.Hash and common.Address differ only in that constructor, so one
// generic implementation replaces what used to be two near-identical
// hand-written meddlers.
type hexMeddler[T hexEncodable] struct {
	fromHex func(string) T
}

func (m hexMeddler[T]) PreRead(fieldAddr interface{}) (interface{}, error) {
	return new(sql.NullString), nil
}

func (m hexMeddler[T]) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("db: hex meddler: expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **T:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		v := m.fromHex(ns.String)
		*ptr = &v
		return nil
	case *T:
		if !ns.Valid {
			var zero T
			*ptr = zero
			return nil
		}
		*ptr = m.fromHex(ns.String)
		return nil
	default:
		var zero T
		return fmt.Errorf("db: hex meddler: expected *%T or **%T, got %T", zero, zero, fieldAddr)
	}
}

func (m hexMeddler[T]) PreWrite(field interface{}) (interface{}, error) {
	switch v := field.(type) {
	case T:
		return v.Hex(), nil
	case *T:
		if v == nil {
			return nil, nil
		}
		return (*v).Hex(), nil
	default:
		var zero T
		return nil, fmt.Errorf("db: hex meddler: expected %T or *%T, got %T", zero, zero, field)
	}
}
