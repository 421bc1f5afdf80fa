//go:build windows

package main

import _ "github.com/afumu/barlens/dma/winproc"
