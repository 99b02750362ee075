package render

// hideNavigationScript hides site chrome that makes no sense on paper.
const hideNavigationScript = `(() => {
  const style = document.createElement('style');
  style.setAttribute('data-docs2pdf', 'hide-navigation');
  style.textContent = [
    'nav', 'header', 'footer', 'aside',
    '[role="navigation"]', '[role="banner"]', '[role="contentinfo"]',
    '.sidebar', '.side-bar', '.navbar', '.nav', '.toc', '.table-of-contents',
    '.breadcrumb', '.breadcrumbs', '.menu', '.cookie-banner', '#cookie-consent',
    '.theme-doc-sidebar-container', '.pagination-nav', '.edit-this-page'
  ].join(',') + ' { display: none !important; }';
  document.head.appendChild(style);
  return true;
})()`

// extractScript returns the page title and the HTML of its main content
// region, falling back to the body.
const extractScript = `(() => {
  const selectors = ['main', 'article', '[role="main"]', '.content', '#content', '.markdown', '.documentation'];
  let el = null;
  for (const s of selectors) {
    el = document.querySelector(s);
    if (el) break;
  }
  if (!el) el = document.body;
  const h1 = document.querySelector('h1');
  const title = (document.title || (h1 ? h1.textContent : '') || '').trim();
  return { title: title, html: el ? el.innerHTML : '' };
})()`
