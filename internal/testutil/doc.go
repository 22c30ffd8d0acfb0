// Package testutil provides builders for rooms and messages used across
// package tests.
package testutil
