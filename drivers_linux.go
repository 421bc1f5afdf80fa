//go:build linux

package main

import _ "github.com/afumu/barlens/dma/procvm"
