package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JsonColumn is a container type which handles the marshalling of
// arbitrary values in/out of a JSONB database column. Stores use this
// type on their internal row models to keep the sqlx scanning free of
// manual json handling.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val T) JsonColumn[T] {
	return JsonColumn[T]{val: &val}
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}

	j.val = out
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, errors.New("cannot construct DB value from JsonColumn with no value")
	}

	return json.Marshal(*j.val)
}

// Get returns the contained value, which may be nil if the column
// scanned was NULL.
func (j *JsonColumn[T]) Get() *T {
	return j.val
}
