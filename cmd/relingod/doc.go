// Command relingod runs the relingo daemon: it recovers unfinished stage
// runs, starts one worker per configured resource-class slot and processes
// tasks until SIGINT or SIGTERM.
package main
