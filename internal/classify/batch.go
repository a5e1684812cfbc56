package classify

import "mailtriage/internal/model"

// Batch is a group of inputs sent in one request.
type Batch struct {
	Items []model.ClassificationInput
	Chars int
}

// BuildBatches groups inputs so each batch stays within maxItems and maxChars,
// measuring each item rendered at budget. An item larger than maxChars gets a batch of its own.
func BuildBatches(inputs []model.ClassificationInput, maxItems, maxChars, budget int) []Batch {
	if maxItems <= 0 {
		maxItems = 1
	}
	var (
		batches []Batch
		cur     Batch
	)
	for _, in := range inputs {
		size := len(RenderEmail(in, budget))
		if len(cur.Items) > 0 && (len(cur.Items) >= maxItems || (maxChars > 0 && cur.Chars+size > maxChars)) {
			batches = append(batches, cur)
			cur = Batch{}
		}
		cur.Items = append(cur.Items, in)
		cur.Chars += size
	}
	if len(cur.Items) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
