package model

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Position is one book entry: the quantity of a security held at an
// account/division pair on the depository channel. The same shape is
// projected into the owning organization's channel as its position view.
type Position struct {
	Balance  Balance `json:"balance"`
	Security string  `json:"security"`
	Quantity int     `json:"quantity"`
}

// ParseBook decodes the JSON array returned by the book chaincode query.
func ParseBook(data []byte) ([]Position, error) {
	var entries []Position
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode book snapshot: %w", err)
	}
	return entries, nil
}

// Args returns the position chaincode put arguments.
func (p Position) Args() []string {
	return []string{p.Balance.Account, p.Balance.Division, p.Security, strconv.Itoa(p.Quantity)}
}

func (p Position) String() string {
	return fmt.Sprintf("position %s/%s (%d of %s)", p.Balance.Account, p.Balance.Division, p.Quantity, p.Security)
}
