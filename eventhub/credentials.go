package eventhub

import (
	"errors"
	"fmt"
	"strings"
)

// Credentials is an event-stream connection string representation.
type Credentials struct {
	Endpoint            string // bare hostname, no sb:// prefix
	EntityPath          string
	SharedAccessKeyName string
	SharedAccessKey     string
}

// ParseConnectionString parses the given connection string
// into a Credentials structure.
func ParseConnectionString(cs string) (*Credentials, error) {
	var c Credentials
	for _, chunk := range strings.Split(cs, ";") {
		kv := strings.SplitN(chunk, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("malformed connection string")
		}
		switch kv[0] {
		case "Endpoint":
			if !strings.HasPrefix(kv[1], "sb://") {
				return nil, errors.New("only sb:// schema supported")
			}
			c.Endpoint = strings.TrimRight(kv[1][5:], "/")
		case "EntityPath":
			c.EntityPath = kv[1]
		case "SharedAccessKeyName":
			c.SharedAccessKeyName = kv[1]
		case "SharedAccessKey":
			c.SharedAccessKey = kv[1]
		}
	}
	if c.Endpoint == "" {
		return nil, errors.New("endpoint is missing")
	}
	return &c, nil
}

// ConnectionString re-serializes the credentials,
// ParseConnectionString is its inverse.
func (c *Credentials) ConnectionString() string {
	return fmt.Sprintf("Endpoint=sb://%s/;EntityPath=%s;SharedAccessKeyName=%s;SharedAccessKey=%s",
		c.Endpoint, c.EntityPath, c.SharedAccessKeyName, c.SharedAccessKey,
	)
}
