package relevance

import (
	"fmt"
	"strings"

	"github.com/54b3r/concierge-go/internal/budget"
	"github.com/54b3r/concierge-go/internal/catalog"
)

// descriptionLimit caps each item description in the prompt listing.
const descriptionLimit = 200

// promptHeader is the instruction used when no reference image is supplied.
const promptHeader = `You are a shopping assistant reviewing candidate products.

The attached image is a grid of product photos. Each photo carries a label
such as "#0" in its top-left corner. The same labels are listed below with
the product name and a short description.

Shopping intent: %s
Item category: %s

Select every product that fits both the shopping intent and the item category.
Leave out products that are off-topic, accessories for a different product, or
clearly the wrong kind of item.`

// promptReference is appended when the user supplied a reference image.
const promptReference = `

A second image, supplied by the user, shows what they are looking for.
Prefer products that resemble it in type and style.`

// promptFooter closes the prompt and fixes the answer format.
const promptFooter = `

Answer with JSON only, in the form {"item_numbers": ["0", "3"]}. Use the
label numbers without the "#". Return an empty list if nothing matches.

Products:
`

// BuildPrompt renders the judge instruction for one batch. Labels are the
// item positions within the batch.
func BuildPrompt(intent, category string, batch []catalog.Item, withReference bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, promptHeader, intent, category)
	if withReference {
		b.WriteString(promptReference)
	}
	b.WriteString(promptFooter)
	for i, it := range batch {
		fmt.Fprintf(&b, "#%d: %s: %s\n", i, it.Name, budget.TruncateChars(it.Description, descriptionLimit))
	}
	return b.String()
}
