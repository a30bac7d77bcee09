package internal

import (
	"errors"
	"fmt"
	"strings"
)

// StringsMapFlag is a repeatable `-flag key=value` flag.
type StringsMapFlag map[string]string

func (f *StringsMapFlag) Set(s string) error {
	if len(*f) == 0 {
		*f = StringsMapFlag{}
	}
	c := strings.SplitN(s, "=", 2)
	if len(c) != 2 {
		return errors.New("malformed key-value flag")
	}
	(*f)[c[0]] = c[1]
	return nil
}

func (f *StringsMapFlag) String() string {
	return fmt.Sprintf("%v", map[string]string(*f))
}
