/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package main

import "github.com/gamestock/gamestock-service/cmd"

func main() {
	cmd.Execute()
}
