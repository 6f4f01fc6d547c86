package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/preprocess"
)

// TextractAPI is the slice of the Textract client the extractor uses.
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// TextractExtractor is the structured backend: table-aware document analysis
// over the artifact's image evidence.
type TextractExtractor struct {
	client TextractAPI
}

func NewTextractExtractor(cfg aws.Config) *TextractExtractor {
	return &TextractExtractor{client: textract.NewFromConfig(cfg)}
}

// NewTextractExtractorWithClient injects a client, used by tests.
func NewTextractExtractorWithClient(client TextractAPI) *TextractExtractor {
	return &TextractExtractor{client: client}
}

func (e *TextractExtractor) Extract(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint MetadataHint) (*models.Timetable, error) {
	if !artifact.HasImage() {
		return nil, common.Ef(common.KindStructuredBackend, "extract.textract", "no image evidence for document analysis")
	}

	out, err := e.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: artifact.ImageBytes},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables},
	})
	if err != nil {
		return nil, common.E(common.KindStructuredBackend, "extract.textract", err)
	}

	table := firstTable(out.Blocks)
	if table == nil {
		return nil, common.Ef(common.KindStructuredBackend, "extract.textract", "no table detected in document")
	}

	slog.Debug("textract table detected", "rows", len(table), "cols", colCount(table))
	return TableToTimetable(table, hint)
}

// firstTable reconstructs the first TABLE block as a cell grid.
func firstTable(blocks []types.Block) Table {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	for _, b := range blocks {
		if b.BlockType != types.BlockTypeTable {
			continue
		}

		var maxRow, maxCol int
		cells := map[[2]int]string{}
		for _, rel := range b.Relationships {
			if rel.Type != types.RelationshipTypeChild {
				continue
			}
			for _, id := range rel.Ids {
				cell, ok := byID[id]
				if !ok || cell.BlockType != types.BlockTypeCell {
					continue
				}
				row := int(aws.ToInt32(cell.RowIndex))
				col := int(aws.ToInt32(cell.ColumnIndex))
				if row < 1 || col < 1 {
					continue
				}
				if row > maxRow {
					maxRow = row
				}
				if col > maxCol {
					maxCol = col
				}
				cells[[2]int{row, col}] = cellText(cell, byID)
			}
		}

		if maxRow == 0 || maxCol == 0 {
			continue
		}
		table := make(Table, maxRow)
		for r := range table {
			table[r] = make([]string, maxCol)
		}
		for rc, text := range cells {
			table[rc[0]-1][rc[1]-1] = text
		}
		return table
	}
	return nil
}

// cellText joins the WORD children of a CELL block.
func cellText(cell types.Block, byID map[string]types.Block) string {
	var words []string
	for _, rel := range cell.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			child, ok := byID[id]
			if !ok {
				continue
			}
			if child.BlockType == types.BlockTypeWord && child.Text != nil {
				words = append(words, *child.Text)
			}
		}
	}
	return strings.Join(words, " ")
}
