// Package util carries request-scoped context helpers shared by the
// middleware chain and the route table.
package util
