// Package config loads the storeforge YAML configuration.
//
// Every key has a default (see Default), so a file only needs the keys it
// changes. Durations are written as strings such as "10s" or "15m". Command
// line flags are applied on top of the loaded file by cmd/storeforge.
package config
