package orchestration

import "testing"

func TestSplitParagraphs(t *testing.T) {
	paras := SplitParagraphs("first para\n\n\n\nsecond para\r\n\r\nthird")
	if len(paras) != 3 {
		t.Fatalf("got %d paragraphs: %v", len(paras), paras)
	}
	if paras[1] != "second para" {
		t.Fatalf("paras[1] = %q", paras[1])
	}
}

func TestTopParagraphsNoKeywordReturnsHead(t *testing.T) {
	article := "one\n\ntwo\n\nthree\n\nfour"
	got, err := TopParagraphs(article, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestTopParagraphsRanksKeywordMatches(t *testing.T) {
	article := "Cooking pasta at home.\n\nLink building requires patient outreach to editors.\n\nGardening tips for spring."
	got, err := TopParagraphs(article, "link building outreach", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d paragraphs", len(got))
	}
	if got[0] != "Link building requires patient outreach to editors." {
		t.Fatalf("top paragraph = %q", got[0])
	}
}

func TestTopParagraphsEmptyArticle(t *testing.T) {
	got, err := TopParagraphs("", "anything", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
