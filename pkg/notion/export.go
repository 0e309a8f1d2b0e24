package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
)

// maxDescription keeps rich-text blocks under Notion's 2000-char limit.
const maxDescription = 1900

// ExportFindings upserts one page per finding in the target database,
// keyed by title so re-exporting a deal refreshes pages in place.
// Failures are logged per finding; the error is non-nil only when every
// export failed.
func ExportFindings(ctx context.Context, client Client, dbID string, findings []model.Finding) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}

	exported := 0
	var lastErr error
	for _, f := range findings {
		if err := exportFinding(ctx, client, dbID, f); err != nil {
			lastErr = err
			zap.L().Warn("notion: export finding failed",
				zap.String("finding_id", f.ID),
				zap.String("title", f.Title),
				zap.Error(err),
			)
			continue
		}
		exported++
	}

	if exported == 0 {
		return 0, eris.Wrap(lastErr, "notion: all finding exports failed")
	}
	zap.L().Info("notion: findings exported",
		zap.Int("exported", exported),
		zap.Int("total", len(findings)),
	)
	return exported, nil
}

func exportFinding(ctx context.Context, client Client, dbID string, f model.Finding) error {
	existing, err := findPageByTitle(ctx, client, dbID, f.Title)
	if err != nil {
		return err
	}
	props := findingProperties(f)
	if existing != "" {
		_, err = client.UpdatePage(ctx, existing, &notionapi.PageUpdateRequest{Properties: props})
		return err
	}
	_, err = client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	})
	return err
}

// findPageByTitle returns the ID of the database page titled title, or ""
// when none exists.
func findPageByTitle(ctx context.Context, client Client, dbID, title string) (string, error) {
	resp, err := client.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Name",
			RichText: &notionapi.TextFilterCondition{Equals: title},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

// findingProperties maps a finding onto the review database's properties.
func findingProperties(f model.Finding) notionapi.Properties {
	desc := f.Description
	if len(desc) > maxDescription {
		desc = desc[:maxDescription]
	}

	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: f.Title}}},
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(f.FindingType)},
		},
		"Description": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: desc}}},
		},
	}
	if f.Severity != "" {
		props["Severity"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(f.Severity)},
		}
	}
	if f.Phase != "" {
		props["Phase"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: f.Phase},
		}
	}
	if f.CostHighUSD > 0 {
		props["Cost Low"] = notionapi.NumberProperty{Number: f.CostLowUSD}
		props["Cost High"] = notionapi.NumberProperty{Number: f.CostHighUSD}
	}
	return props
}
