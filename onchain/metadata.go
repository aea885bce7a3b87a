package onchain

import (
	"context"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/tickettoken/ticket-indexer/logger"
)

var TokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

type NFTMetadata struct {
	Name                 string      `json:"name"`
	Symbol               string      `json:"symbol"`
	URI                  string      `json:"uri"`
	SellerFeeBasisPoints uint16      `json:"sellerFeeBasisPoints"`
	UpdateAuthority      string      `json:"updateAuthority"`
	IsMutable            bool        `json:"isMutable"`
	Creators             []Creator   `json:"creators"`
	Collection           *Collection `json:"collection,omitempty"`
}

type Creator struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
	Share    uint8  `json:"share"`
}

type Collection struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// metadataAccount is the borsh layout of a Metaplex token metadata account,
// up to the collection field.
type metadataAccount struct {
	Key                 uint8
	UpdateAuthority     solana.PublicKey
	Mint                solana.PublicKey
	Data                metadataData
	PrimarySaleHappened bool
	IsMutable           bool
	EditionNonce        *uint8              `bin:"optional"`
	TokenStandard       *uint8              `bin:"optional"`
	Collection          *metadataCollection `bin:"optional"`
}

type metadataData struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             *[]metadataCreator `bin:"optional"`
}

type metadataCreator struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

type metadataCollection struct {
	Verified bool
	Key      solana.PublicKey
}

// MetadataAddress derives the metadata PDA of mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			TokenMetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		TokenMetadataProgramID,
	)
	return addr, err
}

// GetNFTMetadata returns nil on any failure.
func (r *Reader) GetNFTMetadata(ctx context.Context, tokenID string) *NFTMetadata {
	mint, err := solana.PublicKeyFromBase58(tokenID)
	if err != nil {
		return nil
	}

	addr, err := MetadataAddress(mint)
	if err != nil {
		logger.Debug("metadata address of %s: %s", tokenID, err)
		return nil
	}

	account, err := r.client.GetParsedAccountInfo(ctx, addr.String())
	if err != nil {
		logger.Debug("metadata account of %s: %s", tokenID, err)
		return nil
	}
	if len(account.Data) == 0 {
		return nil
	}

	metadata, err := decodeMetadata(account.Data)
	if err != nil {
		logger.Debug("decode metadata of %s: %s", tokenID, err)
		return nil
	}
	return metadata
}

func decodeMetadata(data []byte) (*NFTMetadata, error) {
	var acc metadataAccount
	if err := bin.NewBorshDecoder(data).Decode(&acc); err != nil {
		return nil, err
	}

	metadata := &NFTMetadata{
		Name:                 trimPadding(acc.Data.Name),
		Symbol:               trimPadding(acc.Data.Symbol),
		URI:                  trimPadding(acc.Data.URI),
		SellerFeeBasisPoints: acc.Data.SellerFeeBasisPoints,
		UpdateAuthority:      acc.UpdateAuthority.String(),
		IsMutable:            acc.IsMutable,
	}
	if acc.Data.Creators != nil {
		for _, c := range *acc.Data.Creators {
			metadata.Creators = append(metadata.Creators, Creator{
				Address:  c.Address.String(),
				Verified: c.Verified,
				Share:    c.Share,
			})
		}
	}
	if acc.Collection != nil {
		metadata.Collection = &Collection{
			Address:  acc.Collection.Key.String(),
			Verified: acc.Collection.Verified,
		}
	}
	return metadata, nil
}

// Metaplex pads string fields with NUL bytes to their maximum length.
func trimPadding(s string) string {
	return strings.TrimRight(s, "\x00")
}
