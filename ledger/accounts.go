package ledger

import (
	"encoding/json"
	"fmt"
)

const (
	AccountTypeMint    = "mint"
	AccountTypeAccount = "account"

	TokenAccountStateFrozen      = "frozen"
	TokenAccountStateInitialized = "initialized"
)

type parsedAccount struct {
	Program string `json:"program"`
	Parsed  struct {
		Type string          `json:"type"`
		Info json.RawMessage `json:"info"`
	} `json:"parsed"`
}

type MintInfo struct {
	Supply          string  `json:"supply"`
	Decimals        uint8   `json:"decimals"`
	IsInitialized   bool    `json:"isInitialized"`
	MintAuthority   *string `json:"mintAuthority"`
	FreezeAuthority *string `json:"freezeAuthority"`
}

type TokenAccountInfo struct {
	Mint        string `json:"mint"`
	Owner       string `json:"owner"`
	State       string `json:"state"`
	TokenAmount struct {
		Amount         string `json:"amount"`
		Decimals       uint8  `json:"decimals"`
		UIAmountString string `json:"uiAmountString"`
	} `json:"tokenAmount"`
}

func (t *TokenAccountInfo) Frozen() bool {
	return t.State == TokenAccountStateFrozen
}

// Mint decodes a jsonParsed SPL mint account.
func (a *AccountInfo) Mint() (*MintInfo, error) {
	var info MintInfo
	if err := a.decodeParsed(AccountTypeMint, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TokenAccount decodes a jsonParsed SPL token account.
func (a *AccountInfo) TokenAccount() (*TokenAccountInfo, error) {
	var info TokenAccountInfo
	if err := a.decodeParsed(AccountTypeAccount, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *AccountInfo) decodeParsed(accountType string, v any) error {
	if len(a.Parsed) == 0 {
		return fmt.Errorf("account %s has no parsed data", a.Address)
	}

	var p parsedAccount
	if err := json.Unmarshal(a.Parsed, &p); err != nil {
		return fmt.Errorf("account %s: decode parsed data: %w", a.Address, err)
	}
	if p.Parsed.Type != accountType {
		return fmt.Errorf("account %s is %q, not %q", a.Address, p.Parsed.Type, accountType)
	}
	if err := json.Unmarshal(p.Parsed.Info, v); err != nil {
		return fmt.Errorf("account %s: decode %s info: %w", a.Address, accountType, err)
	}
	return nil
}
