// Package tags reads `purr` struct tags on read-model documents.
package tags

import (
	"fmt"
	"reflect"
)

const tagName = "purr"

func field(doc any, tag string) (reflect.Value, bool) {
	v := reflect.ValueOf(doc)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get(tagName) == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// ExtractID returns the value of the field tagged `purr:"id"`.
func ExtractID(doc any) (string, error) {
	f, ok := field(doc, "id")
	if !ok {
		return "", fmt.Errorf("purr: no field with purr:\"id\" tag in %T", doc)
	}
	id := fmt.Sprint(f.Interface())
	if id == "" {
		return "", fmt.Errorf("purr: empty id in %T", doc)
	}
	return id, nil
}

// ExtractPosition returns the field tagged `purr:"position"`, if any.
func ExtractPosition(doc any) (int64, bool) {
	f, ok := field(doc, "position")
	if !ok || !f.CanInt() {
		return 0, false
	}
	return f.Int(), true
}

// SetPosition stores pos in the field tagged `purr:"position"`, if any.
func SetPosition(doc any, pos int64) {
	f, ok := field(doc, "position")
	if !ok || !f.CanSet() || !f.CanInt() {
		return
	}
	f.SetInt(pos)
}
