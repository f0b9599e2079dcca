// Command sign-order is the client-side walkthrough: generate a key, sign
// a sample limit order with EIP-712, verify the signature round-trips, and
// print the signed transaction JSON ready to POST to a node.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/clobcore/matchbook/pkg/app/clob"
	"github.com/clobcore/matchbook/pkg/crypto"
)

func main() {
	signer, err := crypto.GenerateKey()
	if err != nil {
		fail("generate key: %v", err)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// A limit buy: 1.0000 FMA at 20.0000 FMB, both at the market's 4
	// decimals.
	order := &crypto.OrderEIP712{
		Symbol:   "FMA-FMB",
		Side:     1, // buy
		Type:     1, // limit
		Price:    big.NewInt(200000),
		Qty:      big.NewInt(10000),
		Nonce:    big.NewInt(1),
		Deadline: big.NewInt(0), // no expiry
		Owner:    signer.Address(),
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Symbol: %s\n", order.Symbol)
	fmt.Println("  Side: buy")
	fmt.Println("  Type: limit")
	fmt.Printf("  Price: %s\n", order.Price)
	fmt.Printf("  Qty: %s\n", order.Qty)
	fmt.Printf("  Owner: %s\n\n", order.Owner.Hex())

	eip712 := crypto.NewEIP712Signer(crypto.DefaultDomain())
	signature, err := eip712.SignOrder(signer, order)
	if err != nil {
		fail("sign order: %v", err)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	signedTx := &clob.SignedTransaction{
		Type:      clob.TxTypeOrder,
		Order:     clob.FromEIP712Order(order),
		Signature: fmt.Sprintf("0x%x", signature),
	}
	txJSON, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fail("marshal tx: %v", err)
	}

	fmt.Println("Signed Transaction (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()

	fmt.Println("Verifying signature...")
	verifier := clob.NewVerifier(crypto.DefaultDomain())
	recovered, valid, err := verifier.VerifyOrderTransaction(signedTx)
	if err != nil {
		fail("verify: %v", err)
	}
	if !valid {
		fail("signature INVALID")
	}
	fmt.Println("signature VALID")
	fmt.Printf("  Signer: %s\n", recovered.Hex())
	fmt.Printf("  Matches owner: %v\n\n", recovered == order.Owner)

	fmt.Println("To submit this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(txJSON))
}

func fail(format string, args ...interface{}) {
	fmt.Printf("Error: "+format+"\n", args...)
	os.Exit(1)
}
