package ledger

import "strings"

type InstructionType string

const (
	InstructionMintNFT  InstructionType = "MINT_NFT"
	InstructionTransfer InstructionType = "TRANSFER"
	InstructionBurn     InstructionType = "BURN"
	InstructionUnknown  InstructionType = "UNKNOWN"
)

var logMarkers = []struct {
	marker string
	kind   InstructionType
}{
	{"MintNft", InstructionMintNFT},
	{"MintTo", InstructionMintNFT},
	{"Transfer", InstructionTransfer},
	{"Burn", InstructionBurn},
}

// ClassifyLogs returns the instruction type of the first log line that
// contains a known marker.
func ClassifyLogs(logs []string) InstructionType {
	for _, line := range logs {
		for _, m := range logMarkers {
			if strings.Contains(line, m.marker) {
				return m.kind
			}
		}
	}
	return InstructionUnknown
}
