package main

import (
	"fmt"
	"reflect"
	"time"
)

//go:noinline
func spin() {
	for {
		time.Sleep(time.Hour)
	}
}

func main() {
	fmt.Printf("main.spin %#x\n", reflect.ValueOf(spin).Pointer())
	fmt.Println("ready")
	spin()
}
