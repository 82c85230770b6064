// Package testsupport holds helpers shared by package tests: isolated
// configs, temporary metadata stores and fixture files.
package testsupport
