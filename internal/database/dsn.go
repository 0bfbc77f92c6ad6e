package database

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DSN is a parsed connection string of the form scheme://host:port/database.
type DSN struct {
	Scheme   string
	Host     string
	Port     int
	Database string

	raw      string
	redacted string
}

// String is the connection string with any password masked, safe to log.
func (d DSN) String() string { return d.redacted }

func (d DSN) uri() string { return d.raw }

// Redact masks the password in a connection string for logging.
func Redact(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "<unparseable connection string>"
	}
	return u.Redacted()
}

// Address returns host[:port].
func (d DSN) Address() string {
	if d.Port == 0 {
		return d.Host
	}
	return d.Host + ":" + strconv.Itoa(d.Port)
}

// ParseConnectionString validates and splits a connection string. The port is
// optional so that mongodb+srv URIs, which never carry one, are accepted.
func ParseConnectionString(s string) (DSN, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		// url.Error repeats the input, password included
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return DSN{}, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}
	if u.Scheme == "" {
		return DSN{}, fmt.Errorf("%w: missing scheme", ErrInvalidConnectionString)
	}
	if u.Hostname() == "" {
		return DSN{}, fmt.Errorf("%w: missing host", ErrInvalidConnectionString)
	}
	d := DSN{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname(), raw: s, redacted: u.Redacted()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return DSN{}, fmt.Errorf("%w: bad port %q", ErrInvalidConnectionString, p)
		}
		d.Port = port
	}
	db := strings.Trim(u.Path, "/")
	if db == "" || strings.Contains(db, "/") {
		return DSN{}, fmt.Errorf("%w: database name required", ErrInvalidConnectionString)
	}
	d.Database = db
	return d, nil
}
