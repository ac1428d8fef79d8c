package esri

import (
	"fmt"
)

// RemoteQueryError reports a feature query that did not yield a feature-set: a
// transport failure, a non-2xx status, an undecodable body or an ArcGIS error object.
type RemoteQueryError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *RemoteQueryError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("esri query %s: status %d: %s", e.URL, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("esri query %s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("esri query %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("esri query %s: %s", e.URL, e.Message)
	}
}

func (e *RemoteQueryError) Unwrap() error {
	return e.Err
}

// RendererFetchError reports that a layer's symbology could not be loaded.
type RendererFetchError struct {
	URL string
	Err error
}

func (e *RendererFetchError) Error() string {
	return fmt.Sprintf("esri renderer %s: %v", e.URL, e.Err)
}

func (e *RendererFetchError) Unwrap() error {
	return e.Err
}
