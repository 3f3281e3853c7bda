/*
Package mirrorrank is a tool for ranking package mirrors and writing a
pacman mirrorlist from the fastest of them.

mirrorrank builds its candidate list from the published mirror feeds:
  - Status feed download with optional OpenPGP signature verification
  - Filtering by country, protocol, branch sync state and sync age
  - HTTP(S) and FTP(S) latency probes, sequential or concurrent
  - Fast-track mode that stops after the first N mirrors answered
  - Atomic mirrorlist updates with file locking

The main packages are:

	github.com/mirrorctl/mirrorrank/internal/pool       - Mirror records, pool and feed formats
	github.com/mirrorctl/mirrorrank/internal/mirror     - Filtering, probing, ranking and output
	github.com/mirrorctl/mirrorrank/cmd/mirrorrank      - Command-line interface
*/
package mirrorrank
