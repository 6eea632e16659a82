// dumpsleuth analyzes crash and hang dumps with an LLM-driven
// investigation loop over a native debugger.
package main

func main() {
	Execute()
}
