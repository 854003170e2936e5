package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

type InstructionStatus string

const (
	StatusInitiated  InstructionStatus = "initiated"
	StatusMatched    InstructionStatus = "matched"
	StatusSigned     InstructionStatus = "signed"
	StatusExecuted   InstructionStatus = "executed"
	StatusDownloaded InstructionStatus = "downloaded"
	StatusDeclined   InstructionStatus = "declined"
	StatusCanceled   InstructionStatus = "canceled"

	StatusRollbackInitiated InstructionStatus = "rollbackInitiated"
	StatusRollbackDone      InstructionStatus = "rollbackDone"
	StatusRollbackDeclined  InstructionStatus = "rollbackDeclined"
)

const (
	InitiatorTransferer = "transferer"
	InitiatorReceiver   = "receiver"
)

// Balance is an account/division pair, the addressing unit of the book.
type Balance struct {
	Account  string `json:"account"`
	Division string `json:"division"`
}

// Quantity is a security quantity as the ledger represents it: a decimal
// string. Chaincode versions disagree on whether it is serialized as a JSON
// number or a string, so it accepts both and normalizes the textual form.
type Quantity string

func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*q = ""
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	*q = Quantity(d.String())
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + string(q) + `"`), nil
}

func (q Quantity) String() string {
	return string(q)
}

// Instruction is a bilateral transfer request. The argument tuple returned by
// Args is also its ledger identity: there is no surrogate id.
type Instruction struct {
	Transferer      Balance           `json:"transferer"`
	Receiver        Balance           `json:"receiver"`
	Security        string            `json:"security"`
	Quantity        Quantity          `json:"quantity"`
	Reference       string            `json:"reference"`
	InstructionDate string            `json:"instructionDate"`
	TradeDate       string            `json:"tradeDate"`
	Status          InstructionStatus `json:"status"`
	Initiator       string            `json:"initiator"`
	DeponentFrom    string            `json:"deponentFrom"`
	DeponentTo      string            `json:"deponentTo"`
}

type instructionDoc Instruction

// ParseInstruction decodes an instruction document from a chaincode event
// payload or a query result. Older chaincode versions emit the fields flat,
// newer ones nest the identity under "key" and the mutable part under
// "value"; both shapes are accepted. The reference is uppercased the same
// way the chaincode does on write, so a decoded instruction always carries
// the ledger form of its identity.
func ParseInstruction(data []byte) (Instruction, error) {
	var doc instructionDoc
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return Instruction{}, fmt.Errorf("decode instruction: %w", err)
	}

	var nested struct {
		Key   instructionDoc `json:"key"`
		Value instructionDoc `json:"value"`
	}
	if err := sonic.Unmarshal(data, &nested); err == nil && nested.Key.Security != "" {
		doc = nested.Key
		doc.Status = nested.Value.Status
		doc.Initiator = nested.Value.Initiator
		doc.DeponentFrom = nested.Value.DeponentFrom
		doc.DeponentTo = nested.Value.DeponentTo
	}

	in := Instruction(doc)
	if in.Security == "" {
		return Instruction{}, fmt.Errorf("decode instruction: no security in %q", string(data))
	}
	in.Reference = strings.ToUpper(in.Reference)
	return in, nil
}

// ParseInstructionList decodes the JSON array returned by the instruction
// chaincode query method.
func ParseInstructionList(data []byte) ([]Instruction, error) {
	var raw []json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode instruction list: %w", err)
	}
	out := make([]Instruction, 0, len(raw))
	for _, r := range raw {
		in, err := ParseInstruction(r)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// Args returns the chaincode call arguments in the fixed order shared by the
// book move/rollback and the instruction status signatures.
func (in Instruction) Args() []string {
	return []string{
		in.Transferer.Account,
		in.Transferer.Division,
		in.Receiver.Account,
		in.Receiver.Division,
		in.Security,
		in.Quantity.String(),
		in.Reference,
		in.InstructionDate,
		in.TradeDate,
	}
}

func (in Instruction) ArgsWithStatus(status InstructionStatus) []string {
	return append(in.Args(), string(status))
}

// ID is the composite identity used for log correlation.
func (in Instruction) ID() string {
	return strings.Join(in.Args(), "-")
}

// InFlight reports whether the orchestrator still owes this instruction a
// book movement.
func (in Instruction) InFlight() bool {
	return in.Status == StatusMatched || in.Status == StatusRollbackInitiated
}

func (in Instruction) String() string {
	return fmt.Sprintf("instruction %s/%s -> %s/%s (%s)",
		in.Transferer.Account, in.Transferer.Division,
		in.Receiver.Account, in.Receiver.Division,
		in.Reference,
	)
}
