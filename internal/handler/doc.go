// Package handler exposes the shortener over HTTP: link creation, redirects,
// stats, health and the middleware that feeds request metrics.
package handler
