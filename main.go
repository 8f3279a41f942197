/*
Copyright © 2023 cryptgen authors
*/
package main

import "github.com/dashcrypt/cryptgen/cmd"

func main() {
	cmd.Execute()
}
