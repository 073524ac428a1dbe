package cart

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
)

func TestLines_DiscriminatedJSON(t *testing.T) {
	ls := Lines{
		ProductLine{ProductID: "p-1", Color: "red", Size: "M", Quantity: 2, UnitPrice: 100},
		ComboLine{ComboID: "c-1", Quantity: 1, UnitPrice: 500, Components: []catalog.Component{
			{ProductID: "p-1", Quantity: 1, UnitPrice: 100},
		}},
	}
	b, err := json.Marshal(ls)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"product"`)
	assert.Contains(t, string(b), `"kind":"combo"`)

	var back Lines
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ls, back)
	assert.Equal(t, int64(700), back.Total())
}

func TestDecodeLine_RejectsUnknownShapes(t *testing.T) {
	cases := map[string]string{
		"unknown kind":  `{"kind":"voucher","code":"X"}`,
		"missing kind":  `{"product_id":"p-1","quantity":1}`,
		"unknown field": `{"kind":"product","product_id":"p-1","quantity":1,"discount":5}`,
		"zero quantity": `{"kind":"product","product_id":"p-1","quantity":0}`,
		"no product id": `{"kind":"product","quantity":1}`,
		"bare combo":    `{"kind":"combo","combo_id":"c-1","quantity":1,"components":[]}`,
		"not an object": `[1,2]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLine([]byte(raw))
			assert.Error(t, err)
			kind := apperr.KindOf(err)
			assert.Contains(t, []apperr.Kind{apperr.KindInvalidInput, apperr.KindInvalidQuantity}, kind)
		})
	}
}

func TestLines_CloneIsDeep(t *testing.T) {
	ls := Lines{ComboLine{ComboID: "c-1", Quantity: 1, UnitPrice: 5, Components: []catalog.Component{{ProductID: "p", Quantity: 1}}}}
	cp := ls.Clone()
	cp[0].(ComboLine).Components[0].Quantity = 9
	assert.Equal(t, 1, ls[0].(ComboLine).Components[0].Quantity)
}
