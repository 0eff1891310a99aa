package main

import (
	"io"
	"net/http"
	"os"
	"time"

	pdfrender "github.com/alnah/go-pdfrender"
	"github.com/alnah/go-pdfrender/internal/config"
)

// Environment holds injectable dependencies for testability.
// Includes I/O, time, the process environment and the HTTP client.
type Environment struct {
	Now       func() time.Time
	Stdout    io.Writer
	Stderr    io.Writer
	LookupEnv config.LookupFunc
	Environ   func() []string
	HTTP      *http.Client

	// Options are appended to every Renderer the commands create.
	Options []pdfrender.Option
}

// DefaultEnv returns the production environment.
func DefaultEnv() *Environment {
	return &Environment{
		Now:       time.Now,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		LookupEnv: os.LookupEnv,
		Environ:   os.Environ,
		HTTP:      newHTTPClient(),
	}
}

// getenv returns the value of key, or "" when unset.
func (e *Environment) getenv(key string) string {
	if e.LookupEnv == nil {
		return ""
	}
	v, _ := e.LookupEnv(key)
	return v
}

// newHTTPClient returns a client that also serves file:// URLs, so local
// documents go through the same fetch path as remote ones.
func newHTTPClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &http.Client{Transport: t}
}
