package main

import "github.com/frahmantamala/giftcard-fulfillment/cmd"

func main() {
	cmd.Execute()
}
