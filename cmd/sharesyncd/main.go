// Command sharesyncd runs the permission pipeline: queue consumers,
// the administrative API, and schema migrations.
package main

func main() {
	execute()
}
