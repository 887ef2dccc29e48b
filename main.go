package main

import (
	"github.com/juergengeck/esp32/cmd/trustctl"
)

func main() {
	trustctl.Execute()
}
