package actions

import "strconv"

var fontSizes = []float64{
	6, 7, 8, 9, 10, 10.5, 11, 12, 13, 14, 15, 16, 18, 20, 22, 24, 26, 28,
	32, 36, 40, 44, 48, 54, 60, 66, 72, 80, 88, 96,
}

func fontSizeOptions() []Option {
	out := make([]Option, len(fontSizes))
	for i, s := range fontSizes {
		v := strconv.FormatFloat(s, 'f', -1, 64)
		out[i] = Option{Value: v, Label: v}
	}
	return out
}

func button(id, command, icon, label string) Descriptor {
	return Descriptor{ID: id, Command: command, Kind: KindButton, Icon: icon, Label: label}
}

func toggle(id, command, icon, label string) Descriptor {
	return Descriptor{ID: id, Command: command, Kind: KindToggle, Icon: icon, Label: label}
}

// WriterGroups is the default text-document toolbar, followed by a hidden
// group holding the commands the host issues itself.
func WriterGroups() []Group {
	return []Group{
		{ID: "undo-redo", Items: []Descriptor{
			button("undo", CommandUndo, "lc_undo.svg", "Undo"),
			button("redo", CommandRedo, "lc_redo.svg", "Redo"),
		}},
		{ID: "clipboard", Items: []Descriptor{
			button("paste", ".uno:Paste", "lc_paste.svg", "Paste"),
			button("cut", ".uno:Cut", "lc_cut.svg", "Cut"),
			button("copy", ".uno:Copy", "lc_copy.svg", "Copy"),
			toggle("format-paintbrush", ".uno:FormatPaintbrush", "lc_formatpaintbrush.svg", "Clone Formatting"),
			button("reset-attributes", ".uno:ResetAttributes", "lc_resetattributes.svg", "Clear Formatting"),
		}},
		{ID: "font", Items: []Descriptor{
			{ID: "font-name", Command: CommandFontName, Kind: KindSelect, Label: "Font", Encoding: EncodingFontName},
			{ID: "font-size", Command: CommandFontHeight, Kind: KindSelect, Label: "Font Size", Encoding: EncodingFontHeight, Options: fontSizeOptions()},
			button("grow", ".uno:Grow", "lc_grow.svg", "Increase Font Size"),
			button("shrink", ".uno:Shrink", "lc_shrink.svg", "Decrease Font Size"),
		}},
		{ID: "formatting", Items: []Descriptor{
			toggle("bold", ".uno:Bold", "lc_bold.svg", "Bold"),
			toggle("italic", ".uno:Italic", "lc_italic.svg", "Italic"),
			toggle("underline", ".uno:Underline", "lc_underline.svg", "Underline"),
			toggle("strikeout", ".uno:Strikeout", "lc_strikeout.svg", "Strikethrough"),
			toggle("subscript", ".uno:SubScript", "lc_subscript.svg", "Subscript"),
			toggle("superscript", ".uno:SuperScript", "lc_superscript.svg", "Superscript"),
			button("spacing", ".uno:Spacing", "lc_spacing.svg", "Character Spacing"),
			{ID: "highlight", Command: ".uno:CharBackColor", Kind: KindButton, Icon: "lc_backcolor.svg", Label: "Highlighting", Encoding: EncodingColor},
			{ID: "font-color", Command: ".uno:Color", Kind: KindButton, Icon: "lc_fontcolor.svg", Label: "Font Color", Encoding: EncodingColor},
		}},
		{ID: "paragraph", Items: []Descriptor{
			toggle("bullet-list", ".uno:DefaultBullet", "lc_defaultbullet.svg", "Bulleted List"),
			toggle("number-list", ".uno:DefaultNumbering", "lc_defaultnumbering.svg", "Numbered List"),
			button("indent-inc", ".uno:IncrementIndent", "lc_incrementindent.svg", "Increase Indent"),
			button("indent-dec", ".uno:DecrementIndent", "lc_decrementindent.svg", "Decrease Indent"),
			toggle("control-codes", ".uno:ControlCodes", "lc_controlcodes.svg", "Formatting Marks"),
			toggle("para-ltr", ".uno:ParaLeftToRight", "lc_paralefttoright.svg", "Left-to-Right"),
			toggle("para-rtl", ".uno:ParaRightToLeft", "lc_pararighttoleft.svg", "Right-to-Left"),
		}},
		{ID: "alignment", Items: []Descriptor{
			toggle("left-para", ".uno:LeftPara", "lc_leftpara.svg", "Align Left"),
			toggle("center-para", ".uno:CenterPara", "lc_centerpara.svg", "Align Center"),
			toggle("right-para", ".uno:RightPara", "lc_rightpara.svg", "Align Right"),
			toggle("justify-para", ".uno:JustifyPara", "lc_justifypara.svg", "Justify"),
			button("line-spacing", ".uno:LineSpacing", "lc_linespacing.svg", "Line Spacing"),
			{ID: "background-color", Command: ".uno:BackgroundColor", Kind: KindButton, Icon: "lc_backgroundcolor.svg", Label: "Paragraph Background", Encoding: EncodingColor},
		}},
		{ID: "insert", Items: []Descriptor{
			button("insert-table", ".uno:InsertTable", "lc_inserttable.svg", "Insert Table"),
			button("insert-graphic", ".uno:InsertGraphic", "lc_insertgraphic.svg", "Insert Image"),
			button("insert-pagebreak", ".uno:InsertPagebreak", "lc_insertpagebreak.svg", "Page Break"),
			button("insert-symbol", ".uno:InsertSymbol", "lc_insertsymbol.svg", "Special Character"),
		}},
		{ID: "search", Items: []Descriptor{
			button("search-dialog", ".uno:SearchDialog", "lc_searchdialog.svg", "Find & Replace"),
		}},
		{ID: "document", Hidden: true, Items: []Descriptor{
			{ID: "save", Command: CommandSave, Kind: KindButton, Label: "Save", Shortcut: "Ctrl+S"},
			{ID: "edit-doc", Command: CommandEditDoc, Kind: KindButton, Label: "Edit Document"},
			{ID: "insert-text", Command: CommandInsertText, Kind: KindButton, Label: "Insert Text", Encoding: EncodingText},
			{ID: "insert-para", Command: CommandInsertPara, Kind: KindButton, Label: "Paragraph Break"},
		}},
	}
}

// Writer is the default table for text documents.
func Writer() *Table {
	return MustTable(WriterGroups())
}
