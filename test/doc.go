// Package test holds black-box checks of the public goRotate API: compile guards,
// runnable examples and Redis round-trip budgets (build tag "integration").
package test
