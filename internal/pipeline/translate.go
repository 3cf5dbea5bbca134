package pipeline

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/translate"

	"babblefish/internal/langreg"
)

// textTranslator wraps AWS Translate's TranslateText for a single
// (source, target) pair. Adapted from the teacher's TranslateService:
// same short-circuit on identical languages, same client shape, but the
// short<->AWS code mapping now goes through the shared langreg.Registry
// instead of a private map duplicated per file.
type textTranslator struct {
	client *translate.Client
	langs  *langreg.Registry
}

func newTextTranslator(client *translate.Client, langs *langreg.Registry) *textTranslator {
	return &textTranslator{client: client, langs: langs}
}

func (t *textTranslator) translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if text == "" {
		return "", nil
	}
	if sourceLang == targetLang {
		return text, nil
	}

	sourceTag, err := t.langs.Resolve(sourceLang)
	if err != nil {
		return "", err
	}
	targetTag, err := t.langs.Resolve(targetLang)
	if err != nil {
		return "", err
	}

	result, err := t.client.TranslateText(ctx, &translate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(sourceTag.TranslateCode),
		TargetLanguageCode: aws.String(targetTag.TranslateCode),
	})
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", sourceLang, targetLang, err)
	}

	return aws.ToString(result.TranslatedText), nil
}
