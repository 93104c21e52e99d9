// Package server hosts the Fiber HTTP service that stands in for the browser:
// every request outside the /-/ control prefix becomes a fetch event, and the
// response produced by the cache proxy is written back verbatim. The package
// also owns the shared upstream http.Client and the hop-by-hop header filter
// so that proxy code and control routes agree on what is forwarded.
package server
