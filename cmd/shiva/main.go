// Command shiva is a terminal chat client for hosted LLM providers.
package main

func main() {
	Execute()
}
