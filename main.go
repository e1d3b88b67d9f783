/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "sunny/cmd"

func main() {
	cmd.Execute()
}
