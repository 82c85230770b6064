// Package ffmpeg builds the ffmpeg argument lists used by the separation,
// synthesis and render stages. It only assembles arguments; running them
// is left to toolexec.
package ffmpeg
