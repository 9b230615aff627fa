package main

import "gongbu_payments/internal/app"

func main() {
	app.Run()
}
